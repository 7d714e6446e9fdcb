// Package entitlement はプラン区分ごとの利用権限を解決する。
package entitlement

import (
	"fmt"

	"github.com/hitoshi/designstudio/internal/model"
)

// Unlimited は上限なしを表す値。
const Unlimited = -1

// FreeDesignsPerMonth はFREEプランの月間デザイン作成上限。
const FreeDesignsPerMonth = 3

// Set はプラン区分に対応する利用権限の組。
type Set struct {
	MaxDesignsPerMonth int                  `json:"maxDesignsPerMonth"`
	MaxExportCount     int                  `json:"maxExportCount"`
	MaxDPI             int                  `json:"maxDpi"`
	AllowedFormats     []model.ExportFormat `json:"allowedFormats"`
	Watermarked        bool                 `json:"watermarked"`
}

// AllowsFormat は出力形式が許可されているかを判定する。
func (s Set) AllowsFormat(f model.ExportFormat) bool {
	for _, v := range s.AllowedFormats {
		if v == f {
			return true
		}
	}
	return false
}

// AllowsDPI は解像度が上限以下かを判定する。
func (s Set) AllowsDPI(dpi int) bool {
	return dpi <= s.MaxDPI
}

var allFormats = []model.ExportFormat{
	model.FormatPNG,
	model.FormatJPEG,
	model.FormatPDF,
	model.FormatSVG,
	model.FormatWEBP,
}

var paidSet = Set{
	MaxDesignsPerMonth: Unlimited,
	MaxExportCount:     Unlimited,
	MaxDPI:             600,
	AllowedFormats:     allFormats,
	Watermarked:        false,
}

var table = map[model.SubscriptionTier]Set{
	model.TierFree: {
		MaxDesignsPerMonth: FreeDesignsPerMonth,
		MaxExportCount:     5,
		MaxDPI:             150,
		AllowedFormats:     []model.ExportFormat{model.FormatPNG},
		Watermarked:        true,
	},
	model.TierPro:        paidSet,
	model.TierBusiness:   paidSet,
	model.TierEnterprise: paidSet,
}

// Resolve はプラン区分に対応する利用権限を返す。
// 未定義のプラン区分はプログラミングエラーとしてpanicする。
func Resolve(tier model.SubscriptionTier) Set {
	s, ok := table[tier]
	if !ok {
		panic(fmt.Sprintf("entitlement: undefined subscription tier %q", tier))
	}
	formats := make([]model.ExportFormat, len(s.AllowedFormats))
	copy(formats, s.AllowedFormats)
	s.AllowedFormats = formats
	return s
}

// CanCreateDesign はユーザーが今月さらにデザインを作成できるかを判定する。
// FREE以外のプランは常にtrue。
func CanCreateDesign(u *model.User) bool {
	if u.SubscriptionTier != model.TierFree {
		return true
	}
	return u.DesignsThisMonth < Resolve(u.SubscriptionTier).MaxDesignsPerMonth
}

// TracksQuota は作成数カウンタを加算する対象のプランかを判定する。
func TracksQuota(tier model.SubscriptionTier) bool {
	return tier == model.TierFree
}
