package scheduler

import (
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
)

// LoadIntegration reads an integration definition from a JSON file.
func LoadIntegration(path string) (Integration, error) {
	bs, err := ioutil.ReadFile(path)
	if err != nil {
		return Integration{}, errors.Wrapf(err, "reading integration '%s'", path)
	}
	var integration Integration
	if err := json.Unmarshal(bs, &integration); err != nil {
		return Integration{}, errors.Wrapf(err, "unmarshaling integration '%s'", path)
	}
	return integration, nil
}
