package qredit

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	TransactionTypeTransfer byte = 0

	// TransferFee is the network defined fee for a transfer, in the smallest
	// unit.
	TransferFee uint64 = 10000000

	VendorFieldSize = 64

	payloadSizeWithoutVendorField = 1 + 4 + PublicKeySize + AddressSize + 8 + 8
	PayloadSize                   = payloadSizeWithoutVendorField + VendorFieldSize
)

// TransactionRequest is a transaction draft as submitted to a peer. Signature
// and ID are filled in by SignTransaction.
type TransactionRequest struct {
	Type            byte   `json:"type"`
	Timestamp       uint32 `json:"timestamp"`
	SenderPublicKey string `json:"senderPublicKey"`
	RecipientID     string `json:"recipientId,omitempty"`
	VendorField     string `json:"vendorField,omitempty"`
	Amount          uint64 `json:"amount"`
	Fee             uint64 `json:"fee"`
	Signature       string `json:"signature,omitempty"`
	ID              string `json:"id,omitempty"`
}

func NewTransfer(recipientID string, amount uint64, vendorField string, timestamp uint32) *TransactionRequest {
	return &TransactionRequest{
		Type:        TransactionTypeTransfer,
		Timestamp:   timestamp,
		RecipientID: recipientID,
		VendorField: vendorField,
		Amount:      amount,
		Fee:         TransferFee,
	}
}

func (tx *TransactionRequest) Signed() bool {
	return tx.Signature != "" && tx.ID != ""
}

// Bytes returns the payload that is signed and hashed for the id.
//
// Layout, integers little endian: type (1), timestamp (4), sender public key
// (33), recipient (21, zeros when absent), vendor field (64, zero padded),
// amount (8), fee (8). A vendor field longer than 64 bytes is left out of the
// payload entirely, shrinking it to 75 bytes.
func (tx *TransactionRequest) Bytes() (payload []byte, err error) {
	publicKey, err := hex.DecodeString(tx.SenderPublicKey)
	if err != nil {
		err = errors.Wrapf(ErrEncoding, "sender public key is not hex: %v", err)
		return
	}
	if len(publicKey) != PublicKeySize {
		err = errors.Wrapf(ErrEncoding, "expected %d byte sender public key, got %d", PublicKeySize, len(publicKey))
		return
	}

	recipient := make([]byte, AddressSize)
	if tx.RecipientID != "" {
		if recipient, err = DecodeAddress(tx.RecipientID); err != nil {
			return
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, PayloadSize))
	buf.WriteByte(tx.Type)
	_ = binary.Write(buf, binary.LittleEndian, tx.Timestamp)
	buf.Write(publicKey)
	buf.Write(recipient)

	vendor := []byte(tx.VendorField)
	if len(vendor) <= VendorFieldSize {
		buf.Write(vendor)
		buf.Write(make([]byte, VendorFieldSize-len(vendor)))
	}

	_ = binary.Write(buf, binary.LittleEndian, tx.Amount)
	_ = binary.Write(buf, binary.LittleEndian, tx.Fee)

	return buf.Bytes(), nil
}

// TransactionID is the lowercase hex sha256 of a signing payload. Nodes
// compute their own id, this one is only used to correlate responses.
func TransactionID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// DecodeTransactionBytes parses a signing payload back into an unsigned
// request. A payload without vendor field decodes with an empty memo.
func DecodeTransactionBytes(payload []byte) (tx *TransactionRequest, err error) {
	withVendor := len(payload) == PayloadSize
	if !withVendor && len(payload) != payloadSizeWithoutVendorField {
		err = errors.Wrapf(ErrEncoding, "expected %d or %d payload bytes, got %d",
			PayloadSize, payloadSizeWithoutVendorField, len(payload))
		return
	}

	tx = &TransactionRequest{
		Type:      payload[0],
		Timestamp: binary.LittleEndian.Uint32(payload[1:5]),
	}

	offset := 5
	tx.SenderPublicKey = hex.EncodeToString(payload[offset : offset+PublicKeySize])
	offset += PublicKeySize

	recipient := payload[offset : offset+AddressSize]
	offset += AddressSize
	if !isZero(recipient) {
		if tx.RecipientID, err = EncodeAddress(recipient); err != nil {
			return
		}
	}

	if withVendor {
		vendor := bytes.TrimRight(payload[offset:offset+VendorFieldSize], "\x00")
		offset += VendorFieldSize
		if !utf8.Valid(vendor) {
			err = errors.Wrap(ErrEncoding, "vendor field is not valid utf-8")
			return
		}
		tx.VendorField = string(vendor)
	}

	tx.Amount = binary.LittleEndian.Uint64(payload[offset : offset+8])
	tx.Fee = binary.LittleEndian.Uint64(payload[offset+8 : offset+16])

	return
}

// SignTransaction fills in the sender public key, signature and id. Any
// failure leaves tx without a signature so it can never be broadcast.
func SignTransaction(tx *TransactionRequest, crypto CryptoProvider, passphrase string) (err error) {
	if tx.Signed() {
		return errors.Errorf("transaction %s is already signed", tx.ID)
	}

	publicKey, err := crypto.DerivePublicKey(passphrase)
	if err != nil {
		return wrapSigning(err, "unable to derive public key")
	}
	tx.SenderPublicKey = hex.EncodeToString(publicKey)

	payload, err := tx.Bytes()
	if err != nil {
		return
	}

	signature, err := crypto.Sign(payload, passphrase)
	if err != nil {
		return wrapSigning(err, "unable to sign transaction")
	}

	tx.Signature = hex.EncodeToString(signature)
	tx.ID = TransactionID(payload)

	return
}

func wrapSigning(err error, msg string) error {
	if errors.Is(err, ErrSigning) {
		return errors.WithMessage(err, msg)
	}
	return errors.Wrapf(ErrSigning, "%s: %v", msg, err)
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
