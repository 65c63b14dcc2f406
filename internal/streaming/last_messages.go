package streaming

import "sync"

// LastMessages remembers the most recent decoded message per reference id.
type LastMessages struct {
	mu   sync.RWMutex
	msgs map[string]Message
}

func NewLastMessages() *LastMessages {
	return &LastMessages{msgs: make(map[string]Message)}
}

func (l *LastMessages) Store(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs[msg.ReferenceID] = msg
}

func (l *LastMessages) Get(ref string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msg, ok := l.msgs[ref]
	return msg, ok
}

// Forget drops the entry for ref, used when a subscription is deleted.
func (l *LastMessages) Forget(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.msgs, ref)
}

func (l *LastMessages) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
