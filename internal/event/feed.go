// Package event provides the in-process observer registry used by the
// simulation to announce state changes to presentation layers.
package event

// Token identifies one subscription. The zero Token is never issued.
type Token uint64

type subscriber[T any] struct {
	token Token
	fn    func(T)
}

// Feed delivers values of type T to its subscribers synchronously, in
// subscription order. The zero Feed is ready to use. A Feed is not safe
// for concurrent use; callers serialize access the same way they
// serialize the state that emits on it.
type Feed[T any] struct {
	next Token
	subs []subscriber[T]
}

// Subscribe registers fn and returns the token that removes it.
func (f *Feed[T]) Subscribe(fn func(T)) Token {
	f.next++
	f.subs = append(f.subs, subscriber[T]{token: f.next, fn: fn})
	return f.next
}

// Unsubscribe removes a subscription. Returns false if the token is unknown
// or was already removed.
func (f *Feed[T]) Unsubscribe(tok Token) bool {
	for i, s := range f.subs {
		if s.token == tok {
			// Copy so an Emit already iterating the old slice is unaffected.
			subs := make([]subscriber[T], 0, len(f.subs)-1)
			subs = append(subs, f.subs[:i]...)
			f.subs = append(subs, f.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every subscriber with v. Subscriptions added or removed by a
// callback take effect from the next Emit.
func (f *Feed[T]) Emit(v T) {
	for _, s := range f.subs {
		s.fn(v)
	}
}

// Len returns the number of live subscriptions.
func (f *Feed[T]) Len() int {
	return len(f.subs)
}
