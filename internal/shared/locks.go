package shared

import "fmt"

// DraftLockKey builds the redis key serialising toggles on one edit draft.
func DraftLockKey(draftID string) string {
	return fmt.Sprintf("editor:draft:%s:lock", draftID)
}
