// Package config는 viper 기반 설정 로딩을 담당하는 패키지입니다.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// 설정 디렉토리 경로
const configDir = "configs"

// Options는 Load 동작을 조정합니다.
type Options struct {
	// Defaults는 키별 기본값입니다. 환경 변수 오버라이드는 기본값이 등록된 키에만 적용됩니다.
	Defaults map[string]interface{}
	// Path가 비어 있으면 CONFIG_PATH, 그 다음 configs/{APP_ENV}를 사용합니다.
	Path string
}

// Load는 서비스 이름에 해당하는 YAML 설정을 읽어 target 구조체에 채웁니다.
//
// 탐색 순서:
//  1. opts.Path 또는 CONFIG_PATH (파일 또는 디렉토리)
//  2. configs/{APP_ENV}/{service}.yaml (APP_ENV 기본값 dev)
//  3. configs/example/{service}.yaml
//
// 환경 변수는 {SERVICE}_ 접두사와 '.' → '_' 치환 규칙으로 모든 키를 덮어씁니다.
func Load(serviceName string, target interface{}, opts Options) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(strings.ToUpper(serviceName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range opts.Defaults {
		v.SetDefault(key, value)
	}

	if err := readConfigFile(v, serviceName, opts.Path); err != nil {
		return err
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("설정 파싱 실패: %w", err)
	}
	return nil
}

func readConfigFile(v *viper.Viper, serviceName, explicit string) error {
	configPath := explicit
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("설정 파일 로드 실패: %w", err)
			}
			return nil
		}
	} else {
		env := os.Getenv("APP_ENV")
		if env == "" {
			env = "dev"
		}
		configPath = filepath.Join(configDir, env)
	}

	v.SetConfigName(serviceName)
	v.AddConfigPath(configPath)
	v.AddConfigPath(filepath.Join(configDir, "example"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && len(v.AllKeys()) > 0 {
			// 파일 없이 기본값과 환경 변수만으로 구동하는 경우
			return nil
		}
		return fmt.Errorf("설정 파일 로드 실패: %w", err)
	}
	return nil
}
