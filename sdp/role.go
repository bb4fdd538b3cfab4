package sdp

import (
	"fmt"

	pionsdp "github.com/pion/sdp/v3"
)

// ConnectionRole is the a=setup value of RFC 4145.
type ConnectionRole = pionsdp.ConnectionRole

// Connection roles
const (
	ConnectionRoleActive   = pionsdp.ConnectionRoleActive
	ConnectionRolePassive  = pionsdp.ConnectionRolePassive
	ConnectionRoleActpass  = pionsdp.ConnectionRoleActpass
	ConnectionRoleHoldconn = pionsdp.ConnectionRoleHoldconn
)

func parseConnectionRole(raw string) (ConnectionRole, error) {
	switch raw {
	case "active":
		return ConnectionRoleActive, nil
	case "passive":
		return ConnectionRolePassive, nil
	case "actpass":
		return ConnectionRoleActpass, nil
	case "holdconn":
		return ConnectionRoleHoldconn, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSetup, raw)
}

// answerRole picks our a=setup in an answer. An actpass offer is answered
// with active, RFC 8842 5.3.
func answerRole(remote ConnectionRole) ConnectionRole {
	if remote == ConnectionRoleActive {
		return ConnectionRolePassive
	}
	return ConnectionRoleActive
}

// dtlsClient reports whether our role makes us the DTLS client.
func dtlsClient(local ConnectionRole) bool {
	return local == ConnectionRoleActive
}
