//go:build !production

package bypass

// compiledIn is false in binaries built with the production tag, which
// removes bypass token acceptance regardless of runtime configuration.
var compiledIn = true
