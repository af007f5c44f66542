package pipeline

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// pointNamespace 是生成分块点 ID 的 UUIDv5 命名空间，不能修改，否则已有索引的 ID 全部失效。
var pointNamespace = uuid.MustParse("6f1c3b8e-2d4a-5e7f-9a0b-1c2d3e4f5a6b")

// DocumentID 返回文档的稳定标识：绝对路径的 md5。文件内容变化时 ID 不变。
func DocumentID(absPath string) string {
	sum := md5.Sum([]byte(absPath))
	return hex.EncodeToString(sum[:])
}

// PointID 由 (文档, 序号) 决定，重复索引同一文档会覆盖而不是新增。
func PointID(documentID string, index int) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID+":"+strconv.Itoa(index))).String()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
