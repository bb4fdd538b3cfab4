package srtp

// transform is the per-profile packet cipher. Packet buffers passed in are
// owned by the caller; returned buffers are freshly allocated.
type transform interface {
	rtpTagLen() int
	rtcpTagLen() int

	// encryptRTP returns header || E(payload) || tag.
	encryptRTP(header, payload []byte, ssrc uint32, index uint64) []byte
	// decryptRTP authenticates packet before decrypting it.
	decryptRTP(packet []byte, headerLen int, ssrc uint32, index uint64) ([]byte, error)

	// encryptRTCP returns header || E(body) || E|index || tag.
	encryptRTCP(packet []byte, ssrc, index uint32) []byte
	// decryptRTCP authenticates and decrypts an SRTCP packet whose trailer
	// carried index and encryption flag.
	decryptRTCP(packet []byte, ssrc, index uint32, encrypted bool) ([]byte, error)
}

func newTransform(profile ProtectionProfile, masterKey, masterSalt []byte) (transform, error) {
	switch profile {
	case ProtectionProfileAes128CmHmacSha1_80:
		return newAesCmHmacSha1(masterKey, masterSalt)
	case ProtectionProfileAeadAes128Gcm:
		return newAeadAesGcm(masterKey, masterSalt)
	}
	return nil, ErrUnsupportedProfile
}
