package custody

import "errors"

var (
	ErrInvalidMasterKey   = errors.New("master private key is not a valid secp256k1 key")
	ErrKeyDecryptFailed   = errors.New("stored key material could not be decrypted")
	ErrKeyMaterialMissing = errors.New("no key material stored for address")
	ErrAddressClaimed     = errors.New("address already claimed by another sweep")
	ErrBalanceBelowFee    = errors.New("balance does not cover the transfer fee")
)
