package wcbridge

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"moff.io/moff-login/pkg/errors"
)

// KeySize is the WalletConnect v1 symmetric key length in bytes.
const KeySize = 256 / 8

var (
	ErrHmacMismatch = errors.New("inconsistent session message hmac")
	ErrBadPadding   = errors.New("invalid pkcs7 padding")
)

// Payload is the encrypted envelope carried in a bridge message.
type Payload struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

// Seal encrypts plaintext with key under a fresh IV and signs cipher||iv.
func Seal(plaintext, key []byte) (*Payload, error) {
	iv, err := GenerateRandomBytes(aes.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}
	data, err := Aes256Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(HmacSha256(append(append([]byte{}, data...), iv...), key)),
	}, nil
}

// Open verifies and decrypts a payload produced by Seal or by a wallet.
func Open(p *Payload, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(p.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv hex")
	}
	data, err := hex.DecodeString(p.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	mac, err := hex.DecodeString(p.Hmac)
	if err != nil {
		return nil, errors.Wrap(err, "decode hmac hex")
	}
	if !hmac.Equal(mac, HmacSha256(append(append([]byte{}, data...), iv...), key)) {
		return nil, ErrHmacMismatch
	}
	return Aes256Decrypt(data, key, iv)
}

func Aes256Encrypt(content, encryptionKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	plaintext := pkcs7Padding(content, aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

func Aes256Decrypt(cipherText, encryptionKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, errors.New("cipher text is not a multiple of the block size")
	}
	plaintext := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, cipherText)
	return pkcs7Unpadding(plaintext, aes.BlockSize)
}

func pkcs7Padding(text []byte, blockSize int) []byte {
	padding := blockSize - len(text)%blockSize
	return append(append([]byte{}, text...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpadding(text []byte, blockSize int) ([]byte, error) {
	n := len(text)
	if n == 0 {
		return nil, ErrBadPadding
	}
	padding := int(text[n-1])
	if padding == 0 || padding > blockSize || padding > n {
		return nil, ErrBadPadding
	}
	for _, b := range text[n-padding:] {
		if int(b) != padding {
			return nil, ErrBadPadding
		}
	}
	return text[:n-padding], nil
}

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func HmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}
