package index

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go-civitai-companion/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "records.bleve"

// Item is the searchable view of a saved model record.
// Fields are searchable by their JSON tag names (e.g. '+creatorName:someuser' or '+tags:anime').
type Item struct {
	ID               string    `json:"id"` // r_<modelID>_<versionID>
	URL              string    `json:"url"`
	ModelID          string    `json:"modelId"`
	VersionID        string    `json:"versionId"`
	Name             string    `json:"name"`
	VersionName      string    `json:"versionName,omitempty"`
	ModelType        string    `json:"modelType,omitempty"`
	BaseModel        string    `json:"baseModel,omitempty"`
	CreatorName      string    `json:"creatorName,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Category         string    `json:"category,omitempty"`
	DownloadFilePath string    `json:"downloadFilePath,omitempty"`
	FileName         string    `json:"fileName,omitempty"`
	SavedAt          time.Time `json:"savedAt,omitempty"`
}

// ItemID is the document id of a model version.
func ItemID(modelID, versionID string) string {
	return fmt.Sprintf("r_%s_%s", modelID, versionID)
}

// ItemFromRecord converts a saved record into an index item.
func ItemFromRecord(rec models.ModelRecord) Item {
	return Item{
		ID:               ItemID(rec.CivitaiModelID, rec.CivitaiVersionID),
		URL:              rec.URL,
		ModelID:          rec.CivitaiModelID,
		VersionID:        rec.CivitaiVersionID,
		Name:             rec.Name,
		VersionName:      rec.VersionName,
		ModelType:        rec.ModelType,
		BaseModel:        rec.BaseModel,
		CreatorName:      rec.Creator,
		Tags:             rec.Tags,
		Category:         rec.SelectedCategory,
		DownloadFilePath: rec.DownloadFilePath,
		FileName:         rec.FileName,
		SavedAt:          rec.CreatedAt,
	}
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new index at: %s", indexPath)
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// RemoveItem deletes the document of a model version.
func RemoveItem(index bleve.Index, modelID, versionID string) error {
	return index.Delete(ItemID(modelID, versionID))
}

// SearchIndex performs a query string search. An empty query matches everything.
func SearchIndex(index bleve.Index, query string, size int) (*bleve.SearchResult, error) {
	var searchRequest *bleve.SearchRequest
	if strings.TrimSpace(query) == "" {
		searchRequest = bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	} else {
		searchRequest = bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	}
	if size > 0 {
		searchRequest.Size = size
	}
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// HitIDs splits the r_<modelID>_<versionID> document ids of a search result.
func HitIDs(result *bleve.SearchResult) [][2]string {
	out := make([][2]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		parts := strings.SplitN(strings.TrimPrefix(hit.ID, "r_"), "_", 2)
		if len(parts) == 2 {
			out = append(out, [2]string{parts[0], parts[1]})
		}
	}
	return out
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
