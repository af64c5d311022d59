//go:build !release

package core

func reportFatal(err error) {
	LogError(err.Error())
	panic(err)
}
