package repository

// Entities lists every table owned by this package, in creation order.
// Used by AutoMigrate in tests; production schemas come from ./migrations.
func Entities() []any {
	return []any{&ApplicationEntity{}, &StatusHistoryEntity{}, &StudentProfileEntity{}, &DonationEntity{}}
}
