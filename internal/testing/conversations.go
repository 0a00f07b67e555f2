package testing

// Conversations pairs the first provided userID with every other one
// e.g. [1, 2, 3, 4] -> [[1,2], [1,3], [1,4]]
func Conversations(userIDs []int64) [][2]int64 {
	if len(userIDs) < 2 {
		return nil
	}

	pairs := make([][2]int64, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		pairs = append(pairs, [2]int64{userIDs[0], userIDs[i]})
	}

	return pairs
}

// Reversed returns a reversed copy of s
func Reversed[T any](s []T) []T {
	reversed := make([]T, len(s))
	for i, v := range s {
		reversed[len(s)-1-i] = v
	}
	return reversed
}
