package models

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by the record store when no record matches.
var ErrNotFound = errors.New("record not found")

type ResourceStatus string

const (
	StatusPending   ResourceStatus = "pending"
	StatusDeploying ResourceStatus = "deploying"
	StatusActive    ResourceStatus = "active"
	StatusFailed    ResourceStatus = "failed"
	StatusDeleting  ResourceStatus = "deleting"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ResourceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDeploying, StatusActive, StatusFailed, StatusDeleting:
		return true
	}
	return false
}

// ResourceConfig holds the provisioning options passed to the infrastructure toolchain.
type ResourceConfig struct {
	Versioning        bool   `json:"versioning"`
	Encryption        string `json:"encryption"` // SSE-S3|SSE-KMS|none
	BackupReplication bool   `json:"backupReplication"`
	MaxObjectSizeMB   int    `json:"maxObjectSizeMb"`
}

// Resource is the local record of one provisioned storage resource (bucket + CDN).
// ObjectStoreName is generated once at creation and never changes.
type Resource struct {
	ID                string         `gorm:"primaryKey" json:"id"`
	OwnerID           string         `gorm:"index" json:"ownerId"`
	DisplayName       string         `gorm:"not null" json:"displayName"`
	ObjectStoreName   string         `gorm:"uniqueIndex;not null" json:"objectStoreName"`
	Region            string         `json:"region"`
	Status            ResourceStatus `gorm:"index;not null" json:"status"`
	ObjectStoreArn    string         `json:"objectStoreArn"`
	CDNDomain         string         `json:"cdnDomain"`
	CDNDistributionID string         `json:"cdnDistributionId"`
	Config            ResourceConfig `gorm:"embedded;embeddedPrefix:config_" json:"config"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// StackOutputs are the named results of a successful provisioning run.
type StackOutputs struct {
	ObjectStoreArn    string `json:"objectStoreArn"`
	CDNDomain         string `json:"cdnDomain"`
	CDNDistributionID string `json:"cdnDistributionId"`
}

// Empty reports whether none of the outputs are known.
func (o StackOutputs) Empty() bool {
	return o.ObjectStoreArn == "" && o.CDNDomain == "" && o.CDNDistributionID == ""
}

// OutputsFromMap picks the known outputs out of a key/value map. Keys are matched
// case-insensitively by substring since the toolchain may decorate them. The
// bucket's own domain outputs are never taken as the CDN domain, and a
// distribution or cdn domain key beats any other domain key.
func OutputsFromMap(m map[string]string) StackOutputs {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var o StackOutputs
	domainRank := 0
	for _, k := range keys {
		v := m[k]
		key := strings.ToLower(k)
		switch {
		case strings.Contains(key, "bucketarn"):
			o.ObjectStoreArn = v
		case strings.Contains(key, "distributionid"):
			o.CDNDistributionID = v
		case strings.Contains(key, "domain") && !strings.HasPrefix(key, "bucket"):
			rank := 1
			if strings.Contains(key, "distributiondomain") || strings.Contains(key, "cdn") {
				rank = 2
			}
			if rank > domainRank {
				o.CDNDomain, domainRank = v, rank
			}
		}
	}
	return o
}

// ResourceUpdate is a partial update. A non-nil Outputs overwrites all three
// output fields, so an empty StackOutputs clears them.
type ResourceUpdate struct {
	Status  *ResourceStatus
	Outputs *StackOutputs
}

// Columns converts the update into a gorm column map.
func (u ResourceUpdate) Columns() map[string]any {
	cols := map[string]any{}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.Outputs != nil {
		cols["object_store_arn"] = u.Outputs.ObjectStoreArn
		cols["cdn_domain"] = u.Outputs.CDNDomain
		cols["cdn_distribution_id"] = u.Outputs.CDNDistributionID
	}
	return cols
}

// SetStatus is shorthand for a status-only update.
func SetStatus(s ResourceStatus) ResourceUpdate { return ResourceUpdate{Status: &s} }

// SetStatusAndOutputs updates the status together with all output fields.
func SetStatusAndOutputs(s ResourceStatus, o StackOutputs) ResourceUpdate {
	return ResourceUpdate{Status: &s, Outputs: &o}
}

const maxSlugLen = 40

// NewObjectStoreName derives the provider-facing bucket name from the display
// name and the creation time. Bucket names must be lowercase, [a-z0-9-] and at
// most 63 characters; the millisecond suffix keeps names from being reused.
func NewObjectStoreName(displayName string, now time.Time) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(displayName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "storage"
	}
	return slug + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// StackName is the provisioning stack name for a bucket. The CDK app derives
// the same name from BUCKET_NAME.
func StackName(objectStoreName string) string {
	return "StorageStack-" + objectStoreName
}
