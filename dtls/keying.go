package dtls

import (
	"crypto/sha256"

	"github.com/pion/dtls/v2/pkg/crypto/prf"
)

const srtpExporterLabel = "EXTRACTOR-dtls_srtp"

// KeyingMaterial holds the SRTP master keys exported after the handshake,
// already split by direction.
type KeyingMaterial struct {
	Profile    SRTPProtectionProfile
	LocalKey   []byte
	LocalSalt  []byte
	RemoteKey  []byte
	RemoteSalt []byte
}

// KeyingMaterial exports the RFC 5764 SRTP keys. The layout is client key,
// server key, client salt, server salt.
func (c *Conn) KeyingMaterial() (KeyingMaterial, error) {
	switch c.lc {
	case StateConnected:
	case StateClosed, StateFailed:
		return KeyingMaterial{}, ErrConnClosed
	default:
		return KeyingMaterial{}, errHandshakeInProgress
	}
	lengths, ok := srtpProtectionProfiles[c.profile]
	if !ok {
		return KeyingMaterial{}, errServerNoMatchingSRTPProfile
	}

	seed := append([]byte(srtpExporterLabel), c.clientRandom()...)
	seed = append(seed, c.serverRandom()...)
	material, err := prf.PHash(c.masterSecret, seed, 2*lengths.key+2*lengths.salt, sha256.New)
	if err != nil {
		return KeyingMaterial{}, &InternalError{err}
	}

	offset := 0
	next := func(n int) []byte {
		b := material[offset : offset+n]
		offset += n
		return b
	}
	clientKey := next(lengths.key)
	serverKey := next(lengths.key)
	clientSalt := next(lengths.salt)
	serverSalt := next(lengths.salt)

	if c.cfg.IsClient {
		return KeyingMaterial{Profile: c.profile, LocalKey: clientKey, LocalSalt: clientSalt, RemoteKey: serverKey, RemoteSalt: serverSalt}, nil
	}
	return KeyingMaterial{Profile: c.profile, LocalKey: serverKey, LocalSalt: serverSalt, RemoteKey: clientKey, RemoteSalt: clientSalt}, nil
}
