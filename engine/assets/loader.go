package assets

import "github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"

type Loader interface {
	// params is loader specific and may be nil.
	Load(path string, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
