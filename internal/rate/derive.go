package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// DeriveKeyFromProviderOptions 从 LLM 客户端标识与其原样 Options JSON 派生限流分组键。
//   - 云端客户端（openai/gemini）：client + sha256(api_key)，api_key 可由 api_key_env 指定；找不到时返回错误；
//   - 本地 ollama：client + base_url（无凭据，按实例分组）；
//   - mock/flaky：未提供 api_key 时使用内置 "MOCK_DEBUG_KEY"。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	apiKey := func() string {
		k := pick(obj, "api_key")
		if k == "" {
			if env := pick(obj, "api_key_env"); env != "" {
				k = os.Getenv(env)
			}
		}
		return k
	}

	key := ""
	switch client {
	case "ollama":
		base := pick(obj, "base_url")
		if base == "" {
			base = "http://localhost:11434"
		}
		return LimitKey(client + ":" + base), nil
	case "mock", "flaky":
		key = pick(obj, "api_key")
		if key == "" {
			key = "MOCK_DEBUG_KEY"
		}
	default:
		key = apiKey()
	}

	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:])), nil
}
