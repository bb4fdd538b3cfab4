package dtls

import "github.com/pion/dtls/v2/pkg/crypto/elliptic"

// https://www.iana.org/assignments/tls-parameters/tls-parameters.xhtml#tls-parameters-10
const ellipticCurveTypeNamedCurve = elliptic.CurveTypeNamedCurve

// local preference order
var supportedCurves = []elliptic.Curve{elliptic.X25519, elliptic.P256}

func selectCurve(offered []elliptic.Curve) (elliptic.Curve, bool) {
	for _, c := range offered {
		for _, s := range supportedCurves {
			if c == s {
				return c, true
			}
		}
	}
	return 0, false
}

func curveSupported(c elliptic.Curve) bool {
	for _, s := range supportedCurves {
		if c == s {
			return true
		}
	}
	return false
}
