package resilience

// disabledBreaker is the "never breaks" variant: it always reports closed
// and ignores every call. Used when circuit breaking is turned off but the
// orchestration code still needs a uniform interface.
type disabledBreaker struct{}

// Disabled returns a breaker that never opens.
func Disabled() Breaker {
	return disabledBreaker{}
}

func (disabledBreaker) Fail(error)    {}
func (disabledBreaker) Success()      {}
func (disabledBreaker) TripHalfOpen() {}
func (disabledBreaker) State() State  { return StateClosed }
func (disabledBreaker) IsOpen() bool  { return false }
func (disabledBreaker) IsClosed() bool {
	return true
}
func (disabledBreaker) Reset()   {}
func (disabledBreaker) Destroy() {}

// Ensure disabledBreaker implements Breaker
var _ Breaker = disabledBreaker{}
