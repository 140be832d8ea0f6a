package envelope

import "encoding/json"

// EncryptedRequest is the POST body shape of the Bot (JSON) channel.
type EncryptedRequest struct {
	Encrypt string `json:"encrypt"`
}

// EncryptedResponse is the reply shape of the Bot (JSON) channel.
type EncryptedResponse struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// SealJSON marshals payload to JSON, seals it, and wraps it with the
// signature/timestamp/nonce envelope the Bot channel expects in reply.
func (c *Codec) SealJSON(payload interface{}, timestamp, nonce string) (EncryptedResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EncryptedResponse{}, err
	}
	cipherText, err := c.Seal(raw)
	if err != nil {
		return EncryptedResponse{}, err
	}
	return EncryptedResponse{
		Encrypt:      cipherText,
		MsgSignature: Signature(c.token, timestamp, nonce, cipherText),
		Timestamp:    timestamp,
		Nonce:        nonce,
	}, nil
}

// OpenJSON verifies the request signature and returns the decrypted bytes,
// ready for json.Unmarshal into the caller's message shape.
func (c *Codec) OpenJSON(sig, timestamp, nonce string, req EncryptedRequest) ([]byte, error) {
	if !c.VerifySignature(sig, timestamp, nonce, req.Encrypt) {
		return nil, ErrSignatureMismatch
	}
	return c.Open(req.Encrypt)
}
