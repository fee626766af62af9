package indicator

import "log"

// ReloadSpecs updates the engine's indicator set while it is running.
// Kernel states whose instance name ("SMA_20") is unchanged keep their
// accumulated warm-up history; genuinely new indicators start cold and
// removed ones are dropped. Returns the number of preserved and newly
// created states across all sessions.
func (e *Engine) ReloadSpecs(newSpecs []Spec) (preserved, created int, err error) {
	if err := ValidateSpecs(newSpecs); err != nil {
		return 0, 0, err
	}

	for key, sess := range e.sessions {
		oldByName := make(map[string]State, len(sess.states))
		for _, st := range sess.states {
			oldByName[st.Name()] = st
		}

		newStates := make([]State, len(newSpecs))
		for i, spec := range newSpecs {
			if existing, ok := oldByName[spec.Name()]; ok {
				newStates[i] = existing // preserve accumulated state
				preserved++
				continue
			}
			st, err := NewState(spec)
			if err != nil {
				return preserved, created, err
			}
			newStates[i] = st
			created++
		}

		sess.specs = newSpecs
		sess.states = newStates
		log.Printf("[indicator] session %s: reloaded %d indicators", key, len(newSpecs))
	}

	e.specs = newSpecs
	log.Printf("[indicator] reload complete: %d specs, %d preserved, %d created",
		len(newSpecs), preserved, created)
	return preserved, created, nil
}
