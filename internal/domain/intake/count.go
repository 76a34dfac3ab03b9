package intake

import "github.com/yungbote/fulfillment-backend/internal/pkg/textstats"

// CountText returns the word and character counts of the readable text in s.
func CountText(s string) (words int, chars int) {
	return textstats.Count(s)
}
