package dtls

import "github.com/pion/dtls/v2/pkg/protocol/extension"

// SRTPProtectionProfile defines the parameters and options that are in effect for the SRTP processing
// https://tools.ietf.org/html/rfc5764#section-4.1.2
type SRTPProtectionProfile = extension.SRTPProtectionProfile

const (
	SRTP_AES128_CM_HMAC_SHA1_80 SRTPProtectionProfile = extension.SRTP_AES128_CM_HMAC_SHA1_80 // nolint
	SRTP_AEAD_AES_128_GCM       SRTPProtectionProfile = extension.SRTP_AEAD_AES_128_GCM       // nolint
)

type srtpKeyLengths struct {
	key, salt int
}

var srtpProtectionProfiles = map[SRTPProtectionProfile]srtpKeyLengths{
	SRTP_AES128_CM_HMAC_SHA1_80: {key: 16, salt: 14},
	SRTP_AEAD_AES_128_GCM:       {key: 16, salt: 12},
}

// selectSRTPProfile returns the first local profile the peer also offers.
func selectSRTPProfile(local, remote []SRTPProtectionProfile) (SRTPProtectionProfile, bool) {
	for _, l := range local {
		for _, r := range remote {
			if l == r {
				return l, true
			}
		}
	}
	return 0, false
}
