package memo

import "errors"

var (
	// ErrMalformedMemo marks memo fields that fail hex or key parsing.
	ErrMalformedMemo = errors.New("malformed memo")

	// ErrDecryptFailed marks WHISPER envelopes that cannot be opened.
	ErrDecryptFailed = errors.New("memo decrypt failed")

	// ErrDecompressFailed marks COMPRESSED envelopes that cannot be expanded.
	ErrDecompressFailed = errors.New("memo decompress failed")

	// ErrNoChannel marks encrypted payloads handled without a handshake channel.
	ErrNoChannel = errors.New("no channel for encrypted memo")
)
