package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists is returned by CreateOnce when the target already exists.
var ErrExists = errors.New("file already exists")

const dirMode = 0o755

// Path returns the file path for basename under dir with the codec extension.
func Path(dir, basename string, codec Codec) string {
	return filepath.Join(dir, basename+codec.Extension())
}

// SaveState atomically replaces the file for basename with the encoded value.
func SaveState(dir, basename string, codec Codec, v any) error {
	tmp, err := writeTemp(dir, codec, v)
	if err != nil {
		return err
	}

	err = os.Rename(tmp, Path(dir, basename, codec))
	if err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// CreateOnce writes the value only if no file exists for basename. The file
// appears complete or not at all: the content is written and synced to a
// temp file, then hard-linked into place, which fails if the name is taken.
func CreateOnce(dir, basename string, codec Codec, v any) error {
	tmp, err := writeTemp(dir, codec, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = os.Link(tmp, Path(dir, basename, codec))
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, basename)
		}

		return fmt.Errorf("link state file: %w", err)
	}

	return nil
}

// LoadState decodes the file for basename into v, which must be a pointer.
func LoadState(dir, basename string, codec Codec, v any) error {
	file, err := os.Open(Path(dir, basename, codec))
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, v)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}

func writeTemp(dir string, codec Codec, v any) (string, error) {
	err := os.MkdirAll(dir, dirMode)
	if err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}

	file, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create state file: %w", err)
	}

	name := file.Name()

	err = codec.Encode(file, v)
	if err == nil {
		err = file.Sync()
	}

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(name)

		return "", fmt.Errorf("encode state: %w", err)
	}

	return name, nil
}
