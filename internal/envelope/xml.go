package envelope

import "encoding/xml"

// EncryptedEnvelope is the <xml><Encrypt>...</Encrypt></xml> POST body of
// the Application (XML) channel.
type EncryptedEnvelope struct {
	XMLName xml.Name `xml:"xml"`
	Encrypt string   `xml:"Encrypt"`
}

// OpenXML verifies the request signature and returns the decrypted bytes,
// ready for xml.Unmarshal into the caller's message shape.
func (c *Codec) OpenXML(sig, timestamp, nonce string, body []byte) ([]byte, error) {
	var env EncryptedEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if !c.VerifySignature(sig, timestamp, nonce, env.Encrypt) {
		return nil, ErrSignatureMismatch
	}
	return c.Open(env.Encrypt)
}

// SealXML marshals payload to XML, seals it, and wraps it into the
// <xml><Encrypt>...</Encrypt><MsgSignature>...</MsgSignature>... shape the
// Application channel expects in reply.
func (c *Codec) SealXML(payload interface{}, timestamp, nonce string) ([]byte, error) {
	raw, err := xml.Marshal(payload)
	if err != nil {
		return nil, err
	}
	cipherText, err := c.Seal(raw)
	if err != nil {
		return nil, err
	}
	reply := struct {
		XMLName      xml.Name `xml:"xml"`
		Encrypt      string   `xml:"Encrypt"`
		MsgSignature string   `xml:"MsgSignature"`
		TimeStamp    string   `xml:"TimeStamp"`
		Nonce        string   `xml:"Nonce"`
	}{
		Encrypt:      cipherText,
		MsgSignature: Signature(c.token, timestamp, nonce, cipherText),
		TimeStamp:    timestamp,
		Nonce:        nonce,
	}
	return xml.Marshal(reply)
}
