package filestore

import (
	"bytes"
	"errors"
	"io"
)

const compareBufSize = 32 * 1024

// sameContent reports whether the two files hold identical bytes.
func (s *Store) sameContent(a, b string) (bool, error) {
	ia, err := s.fs.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := s.fs.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	fa, err := s.fs.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()

	fb, err := s.fs.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	return readersEqual(fa, fb)
}

func readersEqual(a, b io.Reader) (bool, error) {
	bufA := make([]byte, compareBufSize)
	bufB := make([]byte, compareBufSize)

	for {
		na, errA := io.ReadFull(a, bufA)
		nb, errB := io.ReadFull(b, bufB)

		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}

		doneA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}
