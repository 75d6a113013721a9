package access

import (
	"errors"

	"gorm.io/gorm"

	"github.com/ShayanSpiel/fallenempire-sub002/internal/types"
)

// CommunityMembership records that a citizen belongs to a community and may
// trade its local currency.
type CommunityMembership struct {
	gorm.Model  `json:"-"`
	CitizenID   string `gorm:"uniqueIndex:idx_citizen_community" json:"citizen_id"`
	CommunityID string `gorm:"uniqueIndex:idx_citizen_community" json:"community_id"`
}

// Service resolves trade eligibility from community membership.
type Service struct {
	db *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: gormDB}
}

// CanTrade reports whether the citizen may trade the given pair: the pair
// must be active and the citizen a member of the pair's community.
func (s *Service) CanTrade(citizenID, pairID string) (bool, error) {
	var pair types.CurrencyPair
	if err := s.db.Where("pair_id = ?", pairID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !pair.Active {
		return false, nil
	}

	var count int64
	err := s.db.Model(&CommunityMembership{}).
		Where("citizen_id = ? AND community_id = ?", citizenID, pair.CommunityID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddMember registers a citizen in a community. Idempotent.
func (s *Service) AddMember(citizenID, communityID string) error {
	var count int64
	err := s.db.Model(&CommunityMembership{}).
		Where("citizen_id = ? AND community_id = ?", citizenID, communityID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.Create(&CommunityMembership{CitizenID: citizenID, CommunityID: communityID}).Error
}
