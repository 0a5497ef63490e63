package filesystem

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"dumptree/pkg/contract"
)

// BenchmarkWriteTree: 典型提取负载，大量小文件分散在多级目录下；对比原子写与直接覆盖。
func BenchmarkWriteTree(b *testing.B) {
	body := strings.Repeat("package demo\n", 64)
	for _, atomic := range []bool{true, false} {
		b.Run(fmt.Sprintf("atomic=%v", atomic), func(b *testing.B) {
			w, err := New(&Options{OutputDir: b.TempDir(), Atomic: &atomic})
			if err != nil {
				b.Fatalf("new: %v", err)
			}
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				id := contract.ArtifactID(fmt.Sprintf("pkg%02d/sub%d/file%d.go", i%32, i%7, i))
				if err := w.Write(ctx, id, strings.NewReader(body)); err != nil {
					b.Fatalf("write %s: %v", id, err)
				}
			}
		})
	}
}
