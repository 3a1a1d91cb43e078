package configs

import (
	"flag"
	"github.com/sirupsen/logrus"
	"time"
)

var (
	Log = logrus.New()

	Addr     = flag.String("addr", ":5000", "HTTP/WebSocket 监听地址")
	Iface    = flag.String("iface", "", "默认抓包网卡, 订阅者自动启动时使用")
	MaxStore = flag.Int("max-store", 2000, "内存中保留的最近数据包数量")
	Throttle = flag.Duration("throttle", 200*time.Millisecond, "两个被处理数据包之间的最小间隔")
	OUIFile  = flag.String("oui", "", "IEEE oui.txt 厂商数据库路径")
	Redis    = flag.String("redis", "", "厂商缓存 redis 地址, 为空则不启用")
	Origins  = flag.String("origins", "", "允许跨域的来源, 逗号分隔, 为空则允许全部")
	ReadFile = flag.String("read", "", "离线 pcap 文件, 设置后不再读取网卡")
	Debug    = flag.Bool("debug", false, "开启调试模式 true or false")
	Devices  = flag.Bool("devices", false, "打印设备列表后退出")
)

// Init parses the command line and configures Log.
func Init() {
	flag.Parse()
	initLog()
}
