package persist

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	codec Codec
}

// NewPersister creates a persister with the given codec.
func NewPersister[T any](codec Codec) *Persister[T] {
	return &Persister[T]{codec: codec}
}

// Save atomically writes state as dir/basename.
func (p *Persister[T]) Save(dir, basename string, state *T) error {
	return SaveState(dir, basename, p.codec, state)
}

// Load reads dir/basename.
func (p *Persister[T]) Load(dir, basename string) (*T, error) {
	var state T

	err := LoadState(dir, basename, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Extension returns the file extension of persisted states.
func (p *Persister[T]) Extension() string {
	return p.codec.Extension()
}
