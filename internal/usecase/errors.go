package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoom  = errors.New("invalid room id")
	ErrInvalidChunk = errors.New("invalid chunk id")
	ErrNotRecording = errors.New("room is not being recorded")

	ErrRecorder = errors.New("recorder error")
	ErrCache    = errors.New("cache error")
)

func wrapRecorder(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRecorder, err)
}

func wrapCache(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCache, err)
}
