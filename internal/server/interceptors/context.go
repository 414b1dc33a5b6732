package interceptors

import "context"

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	slotKey     = contextKey{"identity_slot"}
)

// Identity is the authenticated caller of an RPC.
type Identity struct {
	AccountID string
	SessionID string
	Email     string
	Roles     []string
}

// WithIdentity returns a context carrying id. It also fills the slot of an enclosing
// LoggingUnary so the request log can name the caller.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if slot, ok := ctx.Value(slotKey).(*Identity); ok {
		*slot = id
	}
	return context.WithValue(ctx, identityKey, id)
}

func withIdentitySlot(ctx context.Context) (context.Context, *Identity) {
	slot := new(Identity)
	return context.WithValue(ctx, slotKey, slot), slot
}

// IdentityFrom returns the identity set by AuthUnary and true, or a zero Identity and false.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// GetAccountID returns the authenticated account id and true if set; otherwise "", false.
func GetAccountID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.AccountID == "" {
		return "", false
	}
	return id.AccountID, true
}

// GetSessionID returns the authenticated session id and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.SessionID == "" {
		return "", false
	}
	return id.SessionID, true
}
