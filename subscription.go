package forumchat

// subscriptionRegistry keeps at most one topic subscription per Session.
// Callers serialise access.
type subscriptionRegistry struct {
	session Session
	topic   string
	sub     Subscription
}

// ensureSubscribed returns the existing handle for session, or subscribes.
// A handle left over from a different session is released first.
func (r *subscriptionRegistry) ensureSubscribed(session Session, topic string, handler FrameHandler) (Subscription, error) {
	if r.sub != nil && r.session == session {
		return r.sub, nil
	}
	if r.sub != nil {
		_ = r.teardown()
	}
	sub, err := session.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	r.session, r.topic, r.sub = session, topic, sub
	return sub, nil
}

// release forgets the handle without unsubscribing, so the caller can do the
// network round trip outside its lock.
func (r *subscriptionRegistry) release() Subscription {
	sub := r.sub
	r.session, r.topic, r.sub = nil, "", nil
	return sub
}

// teardown unsubscribes and clears the handle.
func (r *subscriptionRegistry) teardown() error {
	if sub := r.release(); sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

func (r *subscriptionRegistry) active() bool {
	return r.sub != nil
}
