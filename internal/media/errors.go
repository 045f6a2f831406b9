package media

import "fmt"

// FetchError: the network request for a referenced source failed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError: the fetched or inlined bytes could not be interpreted.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.URL, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// VideoLoadError: the video never yielded a decodable frame.
type VideoLoadError struct {
	URL string
	Err error
}

func (e *VideoLoadError) Error() string { return fmt.Sprintf("load video %s: %v", e.URL, e.Err) }
func (e *VideoLoadError) Unwrap() error { return e.Err }

// MissingInputError: a generator node lacks a required resolved input at
// send time. Surfaced to the caller, never retried.
type MissingInputError struct {
	Position int
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("no usable resolved input at position %d", e.Position)
}
