package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/earshot/internal/phrasestore"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/segment"
)

// Pipeline is the view of a segmentation engine needed for readiness.
// *segment.Engine satisfies it.
type Pipeline interface {
	State() segment.State
	Err() error
}

// Engine reports ready once p has finished calibrating and fails for good
// after p terminated. p is resolved on every check so the engine may be
// replaced (nil while none is running).
func Engine(p func() Pipeline) Checker {
	return Checker{Name: "engine", Check: func(context.Context) error {
		e := p()
		if e == nil {
			return errors.New("no engine running")
		}
		if err := e.Err(); err != nil {
			return fmt.Errorf("terminated: %w", err)
		}
		switch s := e.State(); s {
		case segment.StateCalibrating:
			return errors.New("calibrating")
		case segment.StateTerminated:
			return errors.New("terminated")
		}
		return nil
	}}
}

// Phrases reports whether the wake-phrase file at store.Path() can be loaded
// and holds at least one phrase.
func Phrases(store *phrasestore.Store) Checker {
	return Checker{Name: "phrases", Check: func(context.Context) error {
		set, err := store.Load()
		if err != nil {
			return err
		}
		if set.Len() == 0 {
			return fmt.Errorf("%s: no phrases enrolled", store.Path())
		}
		return nil
	}}
}

// Transcribers fails when the circuit of every transcriber is open.
func Transcribers(states func() map[string]resilience.State) Checker {
	return Checker{Name: "transcriber", Check: func(context.Context) error {
		st := states()
		var open []string
		for name, s := range st {
			if s != resilience.StateOpen {
				return nil
			}
			open = append(open, name)
		}
		if len(open) == 0 {
			return errors.New("no transcriber configured")
		}
		slices.Sort(open)
		return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
	}}
}
