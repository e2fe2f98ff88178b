package domain

// Models lists every persisted entity in migration order.
func Models() []any {
	return []any{
		&Permission{},
		&Role{},
		&User{},
		&Session{},
		&ServiceAPIKey{},
	}
}
