// Package memo implements the on-chain memo transport: the task sentinel
// grammar, hex field coding, chunking, brotli compression and the WHISPER
// encryption envelope.
package memo

// EncodeFlags select the send-side transforms.
type EncodeFlags struct {
	Compress bool
	Encrypt  bool
	Chunk    bool
}

// Encode prepares memo_data payloads for submission: compress, then seal,
// then split. The returned slice has a single element unless chunking
// applied. Encrypting without a channel fails with ErrNoChannel.
func Encode(data string, flags EncodeFlags, ch *Channel) ([]string, error) {
	out := data
	if flags.Compress {
		c, err := Compress(out)
		if err != nil {
			return nil, err
		}
		out = c
	}
	if flags.Encrypt {
		if ch == nil {
			return nil, ErrNoChannel
		}
		e, err := ch.Encrypt(out)
		if err != nil {
			return nil, err
		}
		out = e
	}
	if flags.Chunk {
		return SplitChunks(out), nil
	}
	return []string{out}, nil
}

// Decode reverses the wire envelopes on a reassembled memo_data: WHISPER
// first, then COMPRESSED. Decode never fails outright; malformed or
// undecryptable input comes back unchanged together with the reason, and
// the caller decides whether to log it.
func Decode(data string, ch *Channel) (string, error) {
	out := data
	if IsEncrypted(out) {
		if ch == nil {
			return data, ErrNoChannel
		}
		plain, err := ch.Decrypt(out)
		if err != nil {
			return data, err
		}
		out = plain
	}
	if IsCompressed(out) {
		plain, err := Decompress(out)
		if err != nil {
			return data, err
		}
		out = plain
	}
	return out, nil
}
