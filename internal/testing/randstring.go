package testing

import "github.com/samber/lo"

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet
func RandString() string {
	return lo.RandomString(10, lo.LettersCharset)
}
