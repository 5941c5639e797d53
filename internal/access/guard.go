// Package access はリソース単位の所有者チェックを提供する。
package access

import (
	"github.com/beatmiles/beatmiles/internal/model"
)

// Owned は所有者を持つリソース。
// 実装はnilレシーバーでも安全に呼べること（OwnerIDは空文字列を返す）。
type Owned interface {
	OwnerID() string
	ResourceKind() string
}

// RequireOwnership は主体がリソースの所有者であることを確認する。
// リソースが存在しなければ NOT_FOUND、所有者でなければ FORBIDDEN を返す。
// 存在確認を先に行い、その後で所有者を比較する。
func RequireOwnership(resource Owned, principal *model.Principal) error {
	if resource == nil || resource.OwnerID() == "" {
		kind := "Resource"
		if resource != nil {
			kind = resource.ResourceKind()
		}
		return model.NewNotFoundError(kind)
	}
	if principal.UserID() == "" || resource.OwnerID() != principal.UserID() {
		return model.NewForbiddenError()
	}
	return nil
}
