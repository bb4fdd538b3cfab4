package dtls

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"io"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/ciphersuite"
	"github.com/pion/dtls/v2/pkg/crypto/clientcertificate"
	"github.com/pion/dtls/v2/pkg/crypto/elliptic"
	"github.com/pion/dtls/v2/pkg/crypto/hash"
	"github.com/pion/dtls/v2/pkg/crypto/prf"
	"github.com/pion/dtls/v2/pkg/crypto/signature"
	"github.com/pion/dtls/v2/pkg/crypto/signaturehash"
	"github.com/pion/dtls/v2/pkg/protocol"
	"github.com/pion/dtls/v2/pkg/protocol/extension"
	"github.com/pion/dtls/v2/pkg/protocol/handshake"
)

const (
	// TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
	cipherSuiteID = 0xc02b

	// key exchange selector understood by the ServerKeyExchange and
	// ClientKeyExchange decoders
	keyExchangeECDHE = 4

	gcmKeyLen = 16
	gcmIVLen  = 4
)

var ecdsaSHA256 = signaturehash.Algorithm{Hash: hash.SHA256, Signature: signature.ECDSA}

func (c *Conn) populateRandom(now time.Time) error {
	c.localRandom.GMTUnixTime = now
	_, err := io.ReadFull(rand.Reader, c.localRandom.RandomBytes[:])
	return err
}

func (c *Conn) clientRandom() []byte {
	r := c.localRandom
	if !c.cfg.IsClient {
		r = c.remoteRandom
	}
	b := r.MarshalFixed()
	return b[:]
}

func (c *Conn) serverRandom() []byte {
	r := c.remoteRandom
	if !c.cfg.IsClient {
		r = c.localRandom
	}
	b := r.MarshalFixed()
	return b[:]
}

// marshalHandshake assigns the next message_seq to msg.
func (c *Conn) marshalHandshake(msg handshake.Message) ([]byte, error) {
	h := &handshake.Handshake{
		Header:  handshake.Header{MessageSequence: c.handshakeSendSeq},
		Message: msg,
	}
	raw, err := h.Marshal()
	if err != nil {
		return nil, &InternalError{err}
	}
	c.handshakeSendSeq++
	return raw, nil
}

func (c *Conn) handleHandshakeRecord(now time.Time, data []byte, epoch uint16) error {
	dups, err := c.fragments.push(data, epoch)
	for _, d := range dups {
		if int(d.MessageSequence) == c.retransmitTrigger && d.FragmentOffset == 0 && len(c.flight) > 0 {
			c.log.Debugf("peer retransmitted flight starting at %d, resending ours", d.MessageSequence)
			if err := c.sendFlight(); err != nil {
				return err
			}
		}
	}
	if err != nil {
		return err
	}
	if c.lc != StateHandshaking {
		// Only retransmissions are answered once the handshake is over.
		if c.fragments.discard() > 0 {
			return errUnexpectedMessage
		}
		return nil
	}

	for {
		m, ok := c.fragments.pop()
		if !ok {
			return nil
		}
		if c.awaitingPeerFlight {
			c.peerFlightStart = int(m.seq)
			c.awaitingPeerFlight = false
		}
		hs := &handshake.Handshake{KeyExchangeAlgorithm: keyExchangeECDHE}
		if err := hs.Unmarshal(m.raw); err != nil {
			return &TemporaryError{err}
		}
		c.log.Tracef("received %s seq=%d epoch=%d", m.typ, m.seq, m.epoch)
		if c.cfg.IsClient {
			err = c.handleServerMessage(now, m, hs.Message)
		} else {
			err = c.handleClientMessage(now, m, hs.Message)
		}
		if err != nil {
			return err
		}
		if c.lc != StateHandshaking {
			return nil
		}
	}
}

func (c *Conn) handleServerMessage(now time.Time, m *assembledMessage, msg handshake.Message) error {
	switch msg := msg.(type) {
	case *handshake.MessageHelloVerifyRequest:
		if c.phase != phaseClientWaitServerHello {
			return errUnexpectedMessage
		}
		c.cookie = append([]byte{}, msg.Cookie...)
		return c.sendClientHello(now)

	case *handshake.MessageServerHello:
		if c.phase != phaseClientWaitServerHello {
			return errUnexpectedMessage
		}
		if err := c.processServerHello(msg); err != nil {
			return err
		}
		c.transcript = append(append([]byte{}, c.lastHello...), m.raw...)
		c.phase = phaseClientWaitServerHelloDone
		return nil

	case *handshake.MessageCertificate:
		if c.phase != phaseClientWaitServerHelloDone || c.remoteCert != nil {
			return errUnexpectedMessage
		}
		if err := c.processCertificate(msg); err != nil {
			return err
		}
		c.transcript = append(c.transcript, m.raw...)
		return nil

	case *handshake.MessageServerKeyExchange:
		if c.phase != phaseClientWaitServerHelloDone || c.remoteCert == nil {
			return errUnexpectedMessage
		}
		if err := c.processServerKeyExchange(msg); err != nil {
			return err
		}
		c.transcript = append(c.transcript, m.raw...)
		return nil

	case *handshake.MessageCertificateRequest:
		if c.phase != phaseClientWaitServerHelloDone {
			return errUnexpectedMessage
		}
		c.certRequested = true
		c.transcript = append(c.transcript, m.raw...)
		return nil

	case *handshake.MessageServerHelloDone:
		if c.phase != phaseClientWaitServerHelloDone {
			return errUnexpectedMessage
		}
		if c.remoteCert == nil || c.remotePublicKey == nil {
			return &FatalError{errUnexpectedMessage.Err}
		}
		c.transcript = append(c.transcript, m.raw...)
		return c.sendClientKeyFlight(now)

	case *handshake.MessageFinished:
		if c.phase != phaseClientWaitFinished || m.epoch != 1 {
			return errUnexpectedMessage
		}
		expected, err := prf.VerifyDataServer(c.masterSecret, c.transcript, sha256.New)
		if err != nil {
			return &InternalError{err}
		}
		if !hmac.Equal(expected, msg.VerifyData) {
			return errVerifyDataMismatch
		}
		c.transcript = append(c.transcript, m.raw...)
		return c.established()
	}
	return errUnexpectedMessage
}

func (c *Conn) handleClientMessage(now time.Time, m *assembledMessage, msg handshake.Message) error {
	switch msg := msg.(type) {
	case *handshake.MessageClientHello:
		if c.phase != phaseServerWaitClientHello || m.epoch != 0 {
			return errUnexpectedMessage
		}
		return c.processClientHello(now, m, msg)

	case *handshake.MessageCertificate:
		if c.phase != phaseServerWaitFinished || c.remoteCert != nil {
			return errUnexpectedMessage
		}
		if err := c.processCertificate(msg); err != nil {
			return err
		}
		c.transcript = append(c.transcript, m.raw...)
		return nil

	case *handshake.MessageClientKeyExchange:
		if c.phase != phaseServerWaitFinished || c.cipher != nil {
			return errUnexpectedMessage
		}
		if c.remoteCert == nil {
			return errClientCertificateRequired
		}
		c.transcript = append(c.transcript, m.raw...)
		return c.deriveKeys(msg.PublicKey)

	case *handshake.MessageCertificateVerify:
		if c.phase != phaseServerWaitFinished || c.cipher == nil || c.certVerified {
			return errUnexpectedMessage
		}
		if msg.HashAlgorithm != hash.SHA256 || msg.SignatureAlgorithm != signature.ECDSA {
			return errInvalidSignatureAlgorithm
		}
		digest := sha256.Sum256(c.transcript)
		if !verifyECDSA(c.remoteCert, digest[:], msg.Signature) {
			return errKeySignatureMismatch
		}
		c.certVerified = true
		c.transcript = append(c.transcript, m.raw...)
		return nil

	case *handshake.MessageFinished:
		if c.phase != phaseServerWaitFinished || m.epoch != 1 {
			return errUnexpectedMessage
		}
		if !c.certVerified {
			return errClientCertificateRequired
		}
		expected, err := prf.VerifyDataClient(c.masterSecret, c.transcript, sha256.New)
		if err != nil {
			return &InternalError{err}
		}
		if !hmac.Equal(expected, msg.VerifyData) {
			return errVerifyDataMismatch
		}
		c.transcript = append(c.transcript, m.raw...)
		return c.sendServerFinishedFlight(now)
	}
	return errUnexpectedMessage
}

// sendClientHello sends flight 1, or flight 3 once a cookie is known.
func (c *Conn) sendClientHello(now time.Time) error {
	hello := &handshake.MessageClientHello{
		Version:            protocol.Version1_2,
		Random:             c.localRandom,
		Cookie:             c.cookie,
		CipherSuiteIDs:     []uint16{cipherSuiteID},
		CompressionMethods: []*protocol.CompressionMethod{{}},
		Extensions: []extension.Extension{
			&extension.SupportedEllipticCurves{EllipticCurves: supportedCurves},
			&extension.SupportedPointFormats{PointFormats: []elliptic.CurvePointFormat{elliptic.CurvePointFormatUncompressed}},
			&extension.SupportedSignatureAlgorithms{SignatureHashAlgorithms: []signaturehash.Algorithm{ecdsaSHA256}},
			&extension.UseSRTP{ProtectionProfiles: c.cfg.SRTPProtectionProfiles},
			&extension.UseExtendedMasterSecret{Supported: true},
			&extension.RenegotiationInfo{},
		},
	}
	raw, err := c.marshalHandshake(hello)
	if err != nil {
		return err
	}
	c.lastHello = raw
	return c.startFlight(now, []flightMessage{{raw: raw}}, true)
}

func (c *Conn) processServerHello(msg *handshake.MessageServerHello) error {
	if !msg.Version.Equal(protocol.Version1_2) {
		return errUnsupportedProtocolVersion
	}
	if msg.CipherSuiteID == nil || *msg.CipherSuiteID != cipherSuiteID {
		return errCipherSuiteNoIntersection
	}
	c.remoteRandom = msg.Random

	var srtpOK, emsOK bool
	for _, e := range msg.Extensions {
		switch e := e.(type) {
		case *extension.UseSRTP:
			if len(e.ProtectionProfiles) != 1 {
				return errClientNoMatchingSRTPProfile
			}
			p, ok := selectSRTPProfile(c.cfg.SRTPProtectionProfiles, e.ProtectionProfiles)
			if !ok {
				return errClientNoMatchingSRTPProfile
			}
			c.profile = p
			srtpOK = true
		case *extension.UseExtendedMasterSecret:
			emsOK = e.Supported
		}
	}
	if !srtpOK {
		return errRequestedButNoSRTPExtension
	}
	if !emsOK {
		return errClientRequiredButNoServerEMS
	}
	return nil
}

func (c *Conn) processCertificate(msg *handshake.MessageCertificate) error {
	if len(msg.Certificate) == 0 {
		if c.cfg.IsClient {
			return errInvalidCertificate
		}
		return errClientCertificateRequired
	}
	leaf, err := x509.ParseCertificate(msg.Certificate[0])
	if err != nil {
		return &FatalError{err}
	}
	if _, ok := leaf.PublicKey.(*ecdsa.PublicKey); !ok {
		return errInvalidCertificateType
	}
	fp, err := matchFingerprint(leaf, c.cfg.RemoteFingerprints)
	if err != nil {
		return err
	}
	c.remoteCert = leaf
	c.remoteFingerprint = fp
	return nil
}

func (c *Conn) processServerKeyExchange(msg *handshake.MessageServerKeyExchange) error {
	if msg.EllipticCurveType != ellipticCurveTypeNamedCurve || !curveSupported(msg.NamedCurve) {
		return errInvalidNamedCurve
	}
	if msg.HashAlgorithm != hash.SHA256 {
		return errInvalidHashAlgorithm
	}
	if msg.SignatureAlgorithm != signature.ECDSA {
		return errInvalidSignatureAlgorithm
	}
	digest := keySignatureDigest(c.clientRandom(), c.serverRandom(), msg.NamedCurve, msg.PublicKey)
	if !verifyECDSA(c.remoteCert, digest, msg.Signature) {
		return errKeySignatureMismatch
	}
	c.curve = msg.NamedCurve
	c.remotePublicKey = append([]byte{}, msg.PublicKey...)
	return nil
}

// sendClientKeyFlight sends flight 5.
func (c *Conn) sendClientKeyFlight(now time.Time) error {
	keypair, err := elliptic.GenerateKeypair(c.curve)
	if err != nil {
		return &InternalError{err}
	}
	c.localKeypair = keypair

	var flight []flightMessage
	if c.certRequested {
		raw, err := c.marshalHandshake(&handshake.MessageCertificate{Certificate: c.cfg.Certificate.Certificate})
		if err != nil {
			return err
		}
		c.transcript = append(c.transcript, raw...)
		flight = append(flight, flightMessage{raw: raw})
	}

	raw, err := c.marshalHandshake(&handshake.MessageClientKeyExchange{PublicKey: keypair.PublicKey})
	if err != nil {
		return err
	}
	c.transcript = append(c.transcript, raw...)
	flight = append(flight, flightMessage{raw: raw})
	if err := c.deriveKeys(c.remotePublicKey); err != nil {
		return err
	}

	if c.certRequested {
		digest := sha256.Sum256(c.transcript)
		sig, err := ecdsa.SignASN1(rand.Reader, c.cfg.privateKey, digest[:])
		if err != nil {
			return &InternalError{err}
		}
		raw, err := c.marshalHandshake(&handshake.MessageCertificateVerify{
			HashAlgorithm:      hash.SHA256,
			SignatureAlgorithm: signature.ECDSA,
			Signature:          sig,
		})
		if err != nil {
			return err
		}
		c.transcript = append(c.transcript, raw...)
		flight = append(flight, flightMessage{raw: raw})
	}

	verify, err := prf.VerifyDataClient(c.masterSecret, c.transcript, sha256.New)
	if err != nil {
		return &InternalError{err}
	}
	raw, err = c.marshalHandshake(&handshake.MessageFinished{VerifyData: verify})
	if err != nil {
		return err
	}
	c.transcript = append(c.transcript, raw...)
	flight = append(flight, flightMessage{changeCipherSpec: true}, flightMessage{epoch: 1, raw: raw})

	c.phase = phaseClientWaitFinished
	return c.startFlight(now, flight, true)
}

func (c *Conn) helloCookie(random handshake.Random) []byte {
	mac := hmac.New(sha256.New, c.cookieSecret)
	b := random.MarshalFixed()
	mac.Write(b[:])
	return mac.Sum(nil)
}

func (c *Conn) processClientHello(now time.Time, m *assembledMessage, msg *handshake.MessageClientHello) error {
	cookie := c.helloCookie(msg.Random)
	if !hmac.Equal(cookie, msg.Cookie) {
		// stateless answer, the client's retransmission drives recovery
		raw, err := c.marshalHandshake(&handshake.MessageHelloVerifyRequest{
			Version: protocol.Version1_0,
			Cookie:  cookie,
		})
		if err != nil {
			return err
		}
		return c.startFlight(now, []flightMessage{{raw: raw}}, false)
	}

	if !msg.Version.Equal(protocol.Version1_2) {
		return errUnsupportedProtocolVersion
	}
	suiteOK := false
	for _, id := range msg.CipherSuiteIDs {
		if id == cipherSuiteID {
			suiteOK = true
		}
	}
	if !suiteOK {
		return errCipherSuiteNoIntersection
	}

	var curveOK, srtpOK, emsOK bool
	for _, e := range msg.Extensions {
		switch e := e.(type) {
		case *extension.SupportedEllipticCurves:
			c.curve, curveOK = selectCurve(e.EllipticCurves)
		case *extension.UseSRTP:
			c.profile, srtpOK = selectSRTPProfile(c.cfg.SRTPProtectionProfiles, e.ProtectionProfiles)
		case *extension.UseExtendedMasterSecret:
			emsOK = e.Supported
		}
	}
	switch {
	case !curveOK:
		return errNoSupportedEllipticCurves
	case !srtpOK:
		return errServerNoMatchingSRTPProfile
	case !emsOK:
		return errServerRequiredButNoClientEMS
	}

	c.remoteRandom = msg.Random
	if err := c.populateRandom(now); err != nil {
		return &InternalError{err}
	}
	c.transcript = append([]byte{}, m.raw...)
	return c.sendServerHelloFlight(now)
}

// sendServerHelloFlight sends flight 4.
func (c *Conn) sendServerHelloFlight(now time.Time) error {
	keypair, err := elliptic.GenerateKeypair(c.curve)
	if err != nil {
		return &InternalError{err}
	}
	c.localKeypair = keypair

	suite := uint16(cipherSuiteID)
	digest := keySignatureDigest(c.clientRandom(), c.serverRandom(), c.curve, keypair.PublicKey)
	sig, err := ecdsa.SignASN1(rand.Reader, c.cfg.privateKey, digest)
	if err != nil {
		return &InternalError{err}
	}

	msgs := []handshake.Message{
		&handshake.MessageServerHello{
			Version:           protocol.Version1_2,
			Random:            c.localRandom,
			CipherSuiteID:     &suite,
			CompressionMethod: &protocol.CompressionMethod{},
			Extensions: []extension.Extension{
				&extension.UseSRTP{ProtectionProfiles: []SRTPProtectionProfile{c.profile}},
				&extension.UseExtendedMasterSecret{Supported: true},
				&extension.RenegotiationInfo{},
				&extension.SupportedPointFormats{PointFormats: []elliptic.CurvePointFormat{elliptic.CurvePointFormatUncompressed}},
			},
		},
		&handshake.MessageCertificate{Certificate: c.cfg.Certificate.Certificate},
		&handshake.MessageServerKeyExchange{
			EllipticCurveType:  ellipticCurveTypeNamedCurve,
			NamedCurve:         c.curve,
			PublicKey:          keypair.PublicKey,
			HashAlgorithm:      hash.SHA256,
			SignatureAlgorithm: signature.ECDSA,
			Signature:          sig,
		},
		&handshake.MessageCertificateRequest{
			CertificateTypes:        []clientcertificate.Type{clientcertificate.ECDSASign},
			SignatureHashAlgorithms: []signaturehash.Algorithm{ecdsaSHA256},
		},
		&handshake.MessageServerHelloDone{},
	}

	flight := make([]flightMessage, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := c.marshalHandshake(msg)
		if err != nil {
			return err
		}
		c.transcript = append(c.transcript, raw...)
		flight = append(flight, flightMessage{raw: raw})
	}
	c.phase = phaseServerWaitFinished
	return c.startFlight(now, flight, true)
}

// sendServerFinishedFlight sends flight 6. It is only resent when the
// client retransmits flight 5.
func (c *Conn) sendServerFinishedFlight(now time.Time) error {
	verify, err := prf.VerifyDataServer(c.masterSecret, c.transcript, sha256.New)
	if err != nil {
		return &InternalError{err}
	}
	raw, err := c.marshalHandshake(&handshake.MessageFinished{VerifyData: verify})
	if err != nil {
		return err
	}
	c.transcript = append(c.transcript, raw...)
	if err := c.startFlight(now, []flightMessage{{changeCipherSpec: true}, {epoch: 1, raw: raw}}, false); err != nil {
		return err
	}
	return c.established()
}

// deriveKeys computes the extended master secret over the transcript that
// ends with the ClientKeyExchange and installs the record cipher.
func (c *Conn) deriveKeys(remotePublicKey []byte) error {
	preMaster, err := prf.PreMasterSecret(remotePublicKey, c.localKeypair.PrivateKey, c.curve)
	if err != nil {
		return &FatalError{err}
	}
	sessionHash := sha256.Sum256(c.transcript)
	c.masterSecret, err = prf.ExtendedMasterSecret(preMaster, sessionHash[:], sha256.New)
	if err != nil {
		return &InternalError{err}
	}

	keys, err := prf.GenerateEncryptionKeys(c.masterSecret, c.clientRandom(), c.serverRandom(), 0, gcmKeyLen, gcmIVLen, sha256.New)
	if err != nil {
		return &InternalError{err}
	}
	if c.cfg.IsClient {
		c.cipher, err = ciphersuite.NewGCM(keys.ClientWriteKey, keys.ClientWriteIV, keys.ServerWriteKey, keys.ServerWriteIV)
	} else {
		c.cipher, err = ciphersuite.NewGCM(keys.ServerWriteKey, keys.ServerWriteIV, keys.ClientWriteKey, keys.ClientWriteIV)
	}
	if err != nil {
		return &InternalError{err}
	}
	return nil
}

func (c *Conn) established() error {
	c.phase = phaseDone
	c.lc = StateConnected
	if c.cfg.IsClient {
		c.flightRetransmit = false
	}
	c.log.Infof("handshake complete, srtp profile %#04x", uint16(c.profile))
	c.events = append(c.events, Connected{Fingerprint: c.remoteFingerprint, Profile: c.profile})
	return nil
}

// keySignatureDigest hashes the ServerKeyExchange parameters together with
// both randoms as RFC 4492 section 5.4 requires.
func keySignatureDigest(clientRandom, serverRandom []byte, curve elliptic.Curve, publicKey []byte) []byte {
	params := make([]byte, 4, 4+len(publicKey))
	params[0] = byte(ellipticCurveTypeNamedCurve)
	binary.BigEndian.PutUint16(params[1:], uint16(curve))
	params[3] = byte(len(publicKey))
	params = append(params, publicKey...)

	h := sha256.New()
	h.Write(clientRandom)
	h.Write(serverRandom)
	h.Write(params)
	return h.Sum(nil)
}

func verifyECDSA(cert *x509.Certificate, digest, sig []byte) bool {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	return ecdsa.VerifyASN1(pub, digest, sig)
}
