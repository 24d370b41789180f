package config

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	LogZapMode               string `mapstructure:"LOG_ZAP_MODE"`
	PrintConfigurationToLogs string `mapstructure:"PRINT_CONFIGURATION_TO_LOGS"`
	EthereumNodeUrl          string `mapstructure:"ETHEREUM_NODE_URL"`
	TargetContract           string `mapstructure:"TARGET_CONTRACT"`
	WrappedCurrencyContract  string `mapstructure:"WRAPPED_CURRENCY_CONTRACT"`
	NativeCurrencySymbol     string `mapstructure:"NATIVE_CURRENCY_SYMBOL"`
	NftApiUrl                string `mapstructure:"NFT_API_URL"`
	NftApiKey                string `mapstructure:"NFT_API_KEY"`
	WebhookPort              int    `mapstructure:"WEBHOOK_PORT"`
	WebhookSigningKey        string `mapstructure:"WEBHOOK_SIGNING_KEY"`
	ChatWebhookUrl           string `mapstructure:"CHAT_WEBHOOK_URL"`
	IpfsGateways             string `mapstructure:"IPFS_GATEWAYS"`
	ExplorerTxUrl            string `mapstructure:"EXPLORER_TX_URL"`
	ProcessedTxTTLHours      uint64 `mapstructure:"PROCESSED_TX_TTL_HOURS"`
}

// IpfsGatewayList returns the configured gateways in fallback order.
func (c Config) IpfsGatewayList() []string {
	var gateways []string
	for _, g := range strings.Split(c.IpfsGateways, ",") {
		if g = strings.TrimSpace(g); g != "" {
			gateways = append(gateways, g)
		}
	}
	return gateways
}

var lock = &sync.Mutex{}
var config *Config

var Get = get

func get() Config {
	if config == nil {
		lock.Lock()
		defer lock.Unlock()
		if config == nil {
			c := loadConfig()
			config = &c
		}
	}
	return *config
}

func loadConfig() Config {
	viperAddConfigFile()
	viperSetDefaults()
	viperAddEnv()
	cfg := initializeCfg()
	debugConfig(cfg)
	return cfg
}

func viperAddConfigFile() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
}

func viperSetDefaults() {
	viper.SetDefault("WRAPPED_CURRENCY_CONTRACT", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	viper.SetDefault("NATIVE_CURRENCY_SYMBOL", "ETH")
	viper.SetDefault("WEBHOOK_PORT", 8080)
	viper.SetDefault("IPFS_GATEWAYS", "https://cloudflare-ipfs.com/ipfs/,https://ipfs.io/ipfs/")
	viper.SetDefault("EXPLORER_TX_URL", "https://etherscan.io/tx/")
	viper.SetDefault("PROCESSED_TX_TTL_HOURS", 24)
}

func viperAddEnv() {
	viper.AutomaticEnv()
	// This makes sure that all envs are binded even if they are not represented in config file (https://github.com/spf13/viper/issues/584)
	valueOfConfig := reflect.ValueOf(&Config{}).Elem()
	fieldsOfConfig := reflect.TypeOf(&Config{}).Elem()
	for i := 0; i < valueOfConfig.NumField(); i++ {
		field, _ := fieldsOfConfig.FieldByName(valueOfConfig.Type().Field(i).Name)
		mapStructureVal := field.Tag.Get("mapstructure")
		err := viper.BindEnv(mapStructureVal)
		if err != nil {
			panic(fmt.Sprintf("Error binding env val '%v': %v", mapStructureVal, err))
		}
	}
}

func initializeCfg() Config {
	var cfg Config
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else {
			panic(fmt.Sprintf("fatal error reading config file: %v", err))
		}
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		panic(fmt.Sprintf("error unmarshaling config: %v", err))
	}
	return cfg
}

func debugConfig(cfg Config) {
	if cfg.PrintConfigurationToLogs == "true" {
		b, err := json.Marshal(cfg)
		var result string
		if err != nil {
			result = "[FAILED TO CONVERT CONF TO STRING]"
		} else {
			result = string(b)
		}
		log.Printf("[APP CONFIGURATION]: %v\n", result)
	}
}
