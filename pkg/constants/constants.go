package constants

// AccountPlatformID is the wallet that collects platform fees on captured sponsorships.
const AccountPlatformID = "00000000-0000-0000-0000-000000000002"

const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleService = "service"
)

const IdempotencyKeyHeader = "Idempotency-Key"
