//go:build production

package bypass

var compiledIn = false
