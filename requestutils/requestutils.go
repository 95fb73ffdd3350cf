package requestutils

import (
	"encoding/json"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

var payloadLimit1MB = int64(1024 * 1024)

// ReadWithLimit reads an io reader with a limit
func ReadWithLimit(body io.Reader, limit int64) ([]byte, error) {
	return ioutil.ReadAll(io.LimitReader(body, limit))
}

// Read an io reader
func Read(body io.Reader) ([]byte, error) {
	jsonString, err := ReadWithLimit(body, payloadLimit1MB)
	if err != nil {
		return nil, errors.WithMessage(err, "Error reading body")
	}
	return jsonString, nil
}

// ReadJSON reads a request body according to an interface and limits the size to 1MB
func ReadJSON(body io.Reader, intr interface{}) error {
	jsonString, err := Read(body)
	if err != nil {
		return err
	}
	err = json.Unmarshal(jsonString, &intr)
	if err != nil {
		return errors.WithMessage(err, "Error unmarshalling body")
	}
	return nil
}
