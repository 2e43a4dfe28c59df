package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s:status", jobID)
}

func ResultKey(jobID string) string {
	return fmt.Sprintf("job:%s:result", jobID)
}
