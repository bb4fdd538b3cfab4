package ice

import (
	"fmt"
	"strings"

	"github.com/pion/stun"
)

// assertInboundUsername checks USERNAME is "local:remote". An empty remote
// fragment only checks the local part, for requests arriving before the
// answer.
func assertInboundUsername(m *stun.Message, localUfrag, remoteUfrag string) error {
	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return err
	}
	if remoteUfrag == "" {
		if !strings.HasPrefix(string(username), localUfrag+":") {
			return fmt.Errorf("%w: expected(%s:*) actual(%s)", ErrUsernameMismatch, localUfrag, string(username))
		}
		return nil
	}
	if expected := localUfrag + ":" + remoteUfrag; string(username) != expected {
		return fmt.Errorf("%w: expected(%s) actual(%s)", ErrUsernameMismatch, expected, string(username))
	}
	return nil
}

func assertInboundMessageIntegrity(m *stun.Message, key []byte) error {
	messageIntegrityAttr := stun.MessageIntegrity(key)
	return messageIntegrityAttr.Check(m)
}

func assertInboundFingerprint(m *stun.Message) error {
	if !m.Contains(stun.AttrFingerprint) {
		return nil
	}
	return stun.Fingerprint.Check(m)
}
