package proximity

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/linesmerrill/bloodbond-api/models"
)

// FillRequestChange writes a change event into the value the watcher decodes into
func FillRequestChange(v interface{}, op string, req models.BloodRequest, updated bson.M) {
	c := v.(*requestChange)
	c.OperationType = op
	c.FullDocument = req
	c.UpdateDescription.UpdatedFields = updated
}
