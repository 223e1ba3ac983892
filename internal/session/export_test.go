package session

// QueuedPrompts exposes the number of requests waiting on the prompt gate.
func (c *Coordinator) QueuedPrompts() int {
	return c.gate.queued()
}
