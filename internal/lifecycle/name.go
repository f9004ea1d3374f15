package lifecycle

import "fmt"

func nameForPrefix(prefix string, port int) string {
	return fmt.Sprintf("%s-%d", prefix, port)
}
