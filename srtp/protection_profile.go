package srtp

// ProtectionProfile is the DTLS-SRTP protection profile id (RFC 5764 4.1.2,
// RFC 7714 14.2).
type ProtectionProfile uint16

// Supported protection profiles
const (
	ProtectionProfileAes128CmHmacSha1_80 ProtectionProfile = 0x0001
	ProtectionProfileAeadAes128Gcm       ProtectionProfile = 0x0007
)

// KeyLen is the master key length in bytes.
func (p ProtectionProfile) KeyLen() (int, error) {
	switch p {
	case ProtectionProfileAes128CmHmacSha1_80, ProtectionProfileAeadAes128Gcm:
		return 16, nil
	}
	return 0, ErrUnsupportedProfile
}

// SaltLen is the master salt length in bytes.
func (p ProtectionProfile) SaltLen() (int, error) {
	switch p {
	case ProtectionProfileAes128CmHmacSha1_80:
		return 14, nil
	case ProtectionProfileAeadAes128Gcm:
		return 12, nil
	}
	return 0, ErrUnsupportedProfile
}

// KeyingMaterialLen is the DTLS exporter length needed for both directions.
func (p ProtectionProfile) KeyingMaterialLen() (int, error) {
	keyLen, err := p.KeyLen()
	if err != nil {
		return 0, err
	}
	saltLen, err := p.SaltLen()
	if err != nil {
		return 0, err
	}
	return 2*keyLen + 2*saltLen, nil
}

func (p ProtectionProfile) String() string {
	switch p {
	case ProtectionProfileAes128CmHmacSha1_80:
		return "SRTP_AES128_CM_HMAC_SHA1_80"
	case ProtectionProfileAeadAes128Gcm:
		return "SRTP_AEAD_AES_128_GCM"
	}
	return "unknown"
}
