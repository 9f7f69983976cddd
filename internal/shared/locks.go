package shared

import "fmt"

// EquityLockKey builds the redis key guarding the open equity period
// critical section. Capital injections and period closes serialise on it.
func EquityLockKey(periodID int64) string {
	return fmt.Sprintf("equity:period:%d:lock", periodID)
}

// TreasuryLockKey builds the redis key for treasury-wide maintenance jobs.
func TreasuryLockKey(treasuryID int64) string {
	return fmt.Sprintf("treasury:%d:lock", treasuryID)
}
