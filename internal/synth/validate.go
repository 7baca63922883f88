package synth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/logger"
)

// minAudioSize is the smallest payload treated as plausible audio; anything
// shorter is almost certainly an error body written to disk.
const minAudioSize = 100

// magicProbeLen covers the longest magic prefix we check.
const magicProbeLen = 12

var (
	ErrAudioMissing  = errors.New("audio file does not exist")
	ErrAudioEmpty    = errors.New("audio file is empty")
	ErrAudioTooSmall = errors.New("audio file is suspiciously small")
)

// ValidateFile checks that the file at path looks like real audio: it must
// exist, be non-empty and at least minAudioSize bytes. A magic-byte mismatch
// for the expected format is logged but does not fail validation, since
// providers occasionally wrap audio in container headers we do not know.
func ValidateFile(path, format string, log *logger.Logger) error {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return fmt.Errorf("%w: %s", ErrAudioMissing, path)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrAudioEmpty, path)
	}

	if info.Size() < minAudioSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrAudioTooSmall, path, info.Size())
	}

	header, readErr := readHeader(path)
	if readErr != nil {
		log.Warn("could not read audio header for %s: %v", path, readErr)

		return nil
	}

	if !magicMatches(header, format) {
		log.Warn("audio file %s does not carry the expected %s signature", path, format)
	}

	return nil
}

func readHeader(path string) ([]byte, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", openErr)
	}

	defer func() { _ = file.Close() }()

	header := make([]byte, magicProbeLen)

	n, readErr := file.Read(header)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read audio header: %w", readErr)
	}

	return header[:n], nil
}

// magicMatches reports whether the header bytes carry the signature of the
// given format. Unknown formats match unconditionally.
func magicMatches(header []byte, format string) bool {
	switch strings.ToLower(format) {
	case "mp3":
		return bytes.HasPrefix(header, []byte("ID3")) ||
			(len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0)
	case "wav":
		return bytes.HasPrefix(header, []byte("RIFF"))
	case "opus", "ogg":
		return bytes.HasPrefix(header, []byte("OggS"))
	default:
		return true
	}
}
