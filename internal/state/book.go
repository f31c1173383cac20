package state

// Book is the full user map. Exactly one User exists per email, and an order
// id appears in at most one user's OpenOrders at a time. The book is owned
// by the single engine consumer: it is never shared across goroutines, so it
// carries no lock.
type Book struct {
	users map[string]*User
}

func NewBook() *Book {
	return &Book{
		users: make(map[string]*User),
	}
}

// Get returns the user for an email, if known.
func (b *Book) Get(email string) (*User, bool) {
	u, ok := b.users[email]
	return u, ok
}

// Put inserts or replaces a user keyed by email.
func (b *Book) Put(u *User) {
	b.users[u.Email] = u
}

// Len returns the number of registered users.
func (b *Book) Len() int {
	return len(b.users)
}

// Snapshot deep-copies the entire book. The engine loop calls this to hand
// a consistent view to the persistence worker without locking.
func (b *Book) Snapshot() map[string]*User {
	out := make(map[string]*User, len(b.users))
	for email, u := range b.users {
		out[email] = u.Clone()
	}
	return out
}

// Restore replaces the book's contents from a loaded snapshot.
func (b *Book) Restore(users map[string]*User) {
	b.users = make(map[string]*User, len(users))
	for email, u := range users {
		b.users[email] = u.Clone()
	}
}
